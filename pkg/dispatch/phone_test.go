package dispatch_test

import (
	"testing"

	"github.com/ignatij/seqflow/pkg/dispatch"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"5551234567":        "+15551234567",
		"15551234567":       "+15551234567",
		"+15551234567":      "+15551234567",
		"(555) 123-4567":    "+15551234567",
		"+1 (555) 123-4567": "+15551234567",
		"447911123456":      "+447911123456",
		"+44 7911 123456":   "+447911123456",
		"":                  "",
		"n/a":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, dispatch.NormalizePhone(in), "input %q", in)
	}
}
