// Copyright Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Scope let's you log data for an area of code, enabling the user full control over
// the level of logging output produced.
type Scope struct {
	// immutable, set at creation
	name        string
	nameToEmit  string
	description string
	callerSkip  int

	outputLevel *atomic.Int32
	logCallers  *atomic.Bool

	// labels data - key slice to preserve ordering
	labelKeys []string
	labels    map[string]any
}

var (
	scopes = make(map[string]*Scope)
	lock   sync.RWMutex
)

// RegisterScope registers a new logging scope. If the same name is used multiple times
// for a single process, the same Scope struct is returned.
//
// Scope names cannot include colons, commas, or periods.
func RegisterScope(name string, description string) *Scope {
	if strings.ContainsAny(name, ":,.") {
		panic(fmt.Sprintf("scope name %s is invalid, it cannot contain colons, commas, or periods", name))
	}

	lock.Lock()
	defer lock.Unlock()

	s, ok := scopes[name]
	if !ok {
		s = &Scope{
			name:        name,
			description: description,
			callerSkip:  1,
			outputLevel: atomic.NewInt32(int32(InfoLevel)),
			logCallers:  atomic.NewBool(false),
			labels:      make(map[string]any),
		}
		if name != DefaultScopeName {
			s.nameToEmit = name
		}
		scopes[name] = s
	}

	return s
}

// FindScope returns a previously registered scope, or nil if the named scope wasn't previously registered
func FindScope(scope string) *Scope {
	lock.RLock()
	defer lock.RUnlock()
	return scopes[scope]
}

// Scopes returns a snapshot of the currently defined set of scopes
func Scopes() map[string]*Scope {
	lock.RLock()
	defer lock.RUnlock()

	s := make(map[string]*Scope, len(scopes))
	for k, v := range scopes {
		s[k] = v
	}
	return s
}

// Fatal outputs a message at fatal level.
func (s *Scope) Fatal(fields ...any) {
	if s.FatalEnabled() {
		s.emit(zapcore.FatalLevel, fmt.Sprint(fields...))
	}
}

// Fatalf uses fmt.Sprintf to construct and log a message at fatal level.
func (s *Scope) Fatalf(format string, args ...any) {
	if s.FatalEnabled() {
		s.emit(zapcore.FatalLevel, maybeSprintf(format, args))
	}
}

// FatalEnabled returns whether output of messages using this scope is currently enabled for fatal-level output.
func (s *Scope) FatalEnabled() bool {
	return s.GetOutputLevel() >= FatalLevel
}

// Error outputs a message at error level.
func (s *Scope) Error(fields ...any) {
	if s.ErrorEnabled() {
		s.emit(zapcore.ErrorLevel, fmt.Sprint(fields...))
	}
}

// Errorf uses fmt.Sprintf to construct and log a message at error level.
func (s *Scope) Errorf(format string, args ...any) {
	if s.ErrorEnabled() {
		s.emit(zapcore.ErrorLevel, maybeSprintf(format, args))
	}
}

// ErrorEnabled returns whether output of messages using this scope is currently enabled for error-level output.
func (s *Scope) ErrorEnabled() bool {
	return s.GetOutputLevel() >= ErrorLevel
}

// Warn outputs a message at warn level.
func (s *Scope) Warn(fields ...any) {
	if s.WarnEnabled() {
		s.emit(zapcore.WarnLevel, fmt.Sprint(fields...))
	}
}

// Warnf uses fmt.Sprintf to construct and log a message at warn level.
func (s *Scope) Warnf(format string, args ...any) {
	if s.WarnEnabled() {
		s.emit(zapcore.WarnLevel, maybeSprintf(format, args))
	}
}

// WarnEnabled returns whether output of messages using this scope is currently enabled for warn-level output.
func (s *Scope) WarnEnabled() bool {
	return s.GetOutputLevel() >= WarnLevel
}

// Info outputs a message at info level.
func (s *Scope) Info(fields ...any) {
	if s.InfoEnabled() {
		s.emit(zapcore.InfoLevel, fmt.Sprint(fields...))
	}
}

// Infof uses fmt.Sprintf to construct and log a message at info level.
func (s *Scope) Infof(format string, args ...any) {
	if s.InfoEnabled() {
		s.emit(zapcore.InfoLevel, maybeSprintf(format, args))
	}
}

// InfoEnabled returns whether output of messages using this scope is currently enabled for info-level output.
func (s *Scope) InfoEnabled() bool {
	return s.GetOutputLevel() >= InfoLevel
}

// Debug outputs a message at debug level.
func (s *Scope) Debug(fields ...any) {
	if s.DebugEnabled() {
		s.emit(zapcore.DebugLevel, fmt.Sprint(fields...))
	}
}

// Debugf uses fmt.Sprintf to construct and log a message at debug level.
func (s *Scope) Debugf(format string, args ...any) {
	if s.DebugEnabled() {
		s.emit(zapcore.DebugLevel, maybeSprintf(format, args))
	}
}

// DebugEnabled returns whether output of messages using this scope is currently enabled for debug-level output.
func (s *Scope) DebugEnabled() bool {
	return s.GetOutputLevel() >= DebugLevel
}

// Name returns this scope's name.
func (s *Scope) Name() string {
	return s.name
}

// Description returns this scope's description
func (s *Scope) Description() string {
	return s.description
}

// SetOutputLevel adjusts the output level associated with the scope.
func (s *Scope) SetOutputLevel(l Level) {
	s.outputLevel.Store(int32(l))
}

// GetOutputLevel returns the output level associated with the scope.
func (s *Scope) GetOutputLevel() Level {
	return Level(s.outputLevel.Load())
}

// SetLogCallers adjusts the output level associated with the scope.
func (s *Scope) SetLogCallers(logCallers bool) {
	s.logCallers.Store(logCallers)
}

// GetLogCallers returns the output level associated with the scope.
func (s *Scope) GetLogCallers() bool {
	return s.logCallers.Load()
}

// WithLabels adds a key-value pairs to the labels in s. The key must be a string, while the value may be any type.
// It returns a copy of s, with the labels added.
// e.g. newScope := oldScope.WithLabels("foo", "bar", "baz", 123, "qux", 0.123)
func (s *Scope) WithLabels(kvlist ...any) *Scope {
	out := s.copy()
	if len(kvlist)%2 != 0 {
		out.labels["WithLabels error"] = fmt.Sprintf("even number of parameters required, got %d", len(kvlist))
		return out
	}

	for i := 0; i < len(kvlist); i += 2 {
		keyi := kvlist[i]
		key, ok := keyi.(string)
		if !ok {
			out.labels["WithLabels error"] = fmt.Sprintf("label name %v must be a string, got %T ", keyi, keyi)
			return out
		}
		if _, exists := out.labels[key]; !exists {
			out.labelKeys = append(out.labelKeys, key)
		}
		out.labels[key] = kvlist[i+1]
	}
	return out
}

func (s *Scope) copy() *Scope {
	out := *s
	out.labels = make(map[string]any, len(s.labels))
	for k, v := range s.labels {
		out.labels[k] = v
	}
	out.labelKeys = append([]string(nil), s.labelKeys...)
	return &out
}

func (s *Scope) emit(level zapcore.Level, msg string) {
	logger := currentLogger()
	if logger == nil {
		return
	}

	fields := make([]zap.Field, 0, len(s.labelKeys)+1)
	if s.nameToEmit != "" {
		fields = append(fields, zap.String("scope", s.nameToEmit))
	}
	for _, k := range s.labelKeys {
		fields = append(fields, zap.Any(k, s.labels[k]))
	}

	opts := []zap.Option{zap.AddCallerSkip(s.callerSkip + 1)}
	if s.GetLogCallers() {
		opts = append(opts, zap.AddCaller())
	}
	if ce := logger.WithOptions(opts...).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func maybeSprintf(format string, args []any) string {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return msg
}

// sortedScopeNames returns the registered scope names in lexical order.
func sortedScopeNames() []string {
	all := Scopes()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
