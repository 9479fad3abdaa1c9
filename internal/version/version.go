// Package version хранит данные сборки, прошиваемые через -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Заполняются при сборке:
//
//	-ldflags "-X <module>/internal/version.version=v1.2.0 -X <module>/internal/version.commit=<sha>"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
}

// String возвращает однострочное описание сборки для логов и health-ответов.
func String() string {
	b := Current()
	return fmt.Sprintf("%s (commit=%s date=%s %s)", b.Version, b.Commit, b.Date, b.GoVersion)
}
