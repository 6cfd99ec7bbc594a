/*
Copyright © 2022 - 2024 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging is the one call site in the module allowed to import
// logrus directly, so every other package depends only on types.Logger
// (base-spec §0's "call sites never import logrus directly").
package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/katsu-project/katsu/pkg/types"
)

// logrusLogger adapts *logrus.Logger to types.Logger. Debug/Debugf/Info/
// Infof/Warn/Warnf/Error/Errorf are already satisfied by the embedded
// *logrus.Logger; only SetLevel needs a string-based wrapper since
// logrus.Logger.SetLevel takes a logrus.Level.
type logrusLogger struct {
	*logrus.Logger
}

// New builds a types.Logger backed by logrus, defaulting to info level with
// a plain text formatter matching the teacher's own CLI output.
func New() types.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{Logger: l}
}

// SetLevel parses level (KATSU_LOG / --log-level: "debug", "info", "warn",
// "error") and applies it, shadowing the embedded logrus.Level-typed method.
func (l *logrusLogger) SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Logger.SetLevel(parsed)
	return nil
}

// SetOutput is already satisfied by *logrus.Logger's own method; restated
// here only to document that it matches types.Logger's signature.
func (l *logrusLogger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}
