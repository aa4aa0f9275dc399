package service

import (
	"sync"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/sirupsen/logrus"
)

var (
	globalOnce sync.Once
	globalSvc  *Service
	globalErr  error
)

// GetGlobalService returns a process-wide Service, constructing it from
// cfg on the first call and ignoring cfg on subsequent calls. §4.4's
// Open Question flags the original singleton pattern as unnecessary
// global state; this keeps a single owning handle for callers that
// genuinely want one without reintroducing a bespoke singleton
// registry: a plain factory (New) wrapped in a once-initialized cell.
func GetGlobalService(cfg *config.Config, log *logrus.Entry) (*Service, error) {
	globalOnce.Do(func() {
		globalSvc, globalErr = New(cfg, log)
		if globalErr != nil {
			globalErr = newServiceError(CodeSingletonInstantiationError, "construct global service", globalErr, nil)
		}
	})
	return globalSvc, globalErr
}

// resetGlobalServiceForTest clears the singleton cell so tests can
// exercise GetGlobalService's construction path more than once.
func resetGlobalServiceForTest() {
	globalOnce = sync.Once{}
	globalSvc = nil
	globalErr = nil
}
