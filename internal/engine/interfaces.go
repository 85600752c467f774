package engine

import (
	"github.com/Veraticus/chargemap/internal/model"
	"github.com/Veraticus/chargemap/internal/service"
)

// Store is the persistence the engine reads rules and charges from and
// writes classifications to.
type Store interface {
	service.RuleStore
	service.ChargeStore
	service.CustomerStore
}

// Observer receives engine outcomes, typically to record metrics.
type Observer interface {
	ObserveResolution(customer string, res model.Resolution)
	ObservePreview(customer string, changes int)
	ObserveApply(result *model.ApplyResult)
}

type noopObserver struct{}

func (noopObserver) ObserveResolution(string, model.Resolution) {}
func (noopObserver) ObservePreview(string, int) {}
func (noopObserver) ObserveApply(*model.ApplyResult) {}
