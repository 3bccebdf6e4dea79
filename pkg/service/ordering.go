package service

import (
	"sort"

	"github.com/ignatij/seqflow/pkg/models"
)

// OrderingStrategy returns the steps in execution order without modifying the input.
type OrderingStrategy func(steps []models.Step) []models.Step

// OrderByIndex sorts by the explicit Order field; ties keep insertion order.
func OrderByIndex(steps []models.Step) []models.Step {
	out := append([]models.Step(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// OrderByPosition sorts top to bottom by editor position, then left to right.
// Steps without a position go last; ties keep insertion order.
func OrderByPosition(steps []models.Step) []models.Step {
	out := append([]models.Step(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Position, out[j].Position
		switch {
		case a == nil || b == nil:
			return a != nil && b == nil
		case a.Y != b.Y:
			return a.Y < b.Y
		default:
			return a.X < b.X
		}
	})
	return out
}

// OrderingByName maps a configuration value to a strategy.
func OrderingByName(name string) (OrderingStrategy, bool) {
	switch name {
	case "", "index", "order":
		return OrderByIndex, true
	case "position":
		return OrderByPosition, true
	}
	return nil, false
}
