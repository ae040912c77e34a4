/*
File Name:  Log.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Log file setup, mirroring the teacher's initLog: if a log file path is
configured, the standard logger's output is redirected there (standard
output itself is left alone); otherwise the default logger writes to
stderr unchanged.
*/

package mesh

import (
	"log"
	"os"
)

// initLog redirects the standard logger to path if set. The returned
// function closes the file and should be deferred by the caller.
func initLog(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	log.SetOutput(f)
	return func() { f.Close() }, nil
}
