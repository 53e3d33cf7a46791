// Package version хранит сведения о сборке fulfillment-service,
// заполняемые через -ldflags "-X .../internal/version.version=...".
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Service: имя сервиса в логах и health-ответах.
const Service = "fulfillment-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// String: строка для логов и баннера.
func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, version, commit, date)
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Fields возвращает поля сборки для стартовой записи лога.
func Fields() log.Fields {
	return log.Fields{
		"service":    Service,
		"version":    version,
		"commit":     commit,
		"build_date": date,
	}
}
