package safe

import (
	"DeepGround/logger"
	"DeepGround/tools/errs"

	"go.uber.org/zap"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that a failing callback does not crash the process.
func SafeGo(f func()) {
	go Run(f)
}

// Run calls f and logs a recovered panic instead of propagating it.
func Run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SafeGo] panic recovered", zap.Error(errs.ErrPanic(r)))
		}
	}()
	f()
}
