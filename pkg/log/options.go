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

	"github.com/spf13/cobra"
)

const (
	DefaultScopeName   = "default"
	OverrideScopeName  = "all"
	defaultOutputLevel = InfoLevel
	defaultOutputPath  = "stdout"
	defaultErrorPath   = "stderr"
)

// Level is an enumeration of all supported log levels.
type Level int

const (
	// NoneLevel disables logging
	NoneLevel Level = iota
	// FatalLevel enables fatal level logging
	FatalLevel
	// ErrorLevel enables error level logging
	ErrorLevel
	// WarnLevel enables warn level logging
	WarnLevel
	// InfoLevel enables info level logging
	InfoLevel
	// DebugLevel enables debug level logging
	DebugLevel
)

var levelToString = map[Level]string{
	DebugLevel: "debug",
	InfoLevel:  "info",
	WarnLevel:  "warn",
	ErrorLevel: "error",
	FatalLevel: "fatal",
	NoneLevel:  "none",
}

var stringToLevel = map[string]Level{
	"debug": DebugLevel,
	"info":  InfoLevel,
	"warn":  WarnLevel,
	"error": ErrorLevel,
	"fatal": FatalLevel,
	"none":  NoneLevel,
}

func (l Level) String() string {
	return levelToString[l]
}

// Options defines the set of options supported by the logging package.
type Options struct {
	// OutputPaths is a list of file system paths to write the log data to.
	// The special values stdout and stderr can be used to output to the
	// standard I/O streams.
	OutputPaths []string

	// ErrorOutputPaths is a list of file system paths to write logger errors to.
	ErrorOutputPaths []string

	// RotateOutputPath is the path to a rotating log file. The file is rotated
	// according to the RotationMax* settings. Empty disables rotation.
	RotateOutputPath string

	// RotationMaxSize is the maximum size in megabytes of a log file before it gets rotated.
	RotationMaxSize int

	// RotationMaxAge is the maximum number of days to retain old log files.
	RotationMaxAge int

	// RotationMaxBackups is the maximum number of old log files to retain.
	RotationMaxBackups int

	// JSONEncoding controls whether the log is formatted as JSON.
	JSONEncoding bool

	outputLevels string
	logCallers   string
}

// DefaultOptions returns a new set of options, initialized to the defaults
func DefaultOptions() *Options {
	return &Options{
		OutputPaths:        []string{defaultOutputPath},
		ErrorOutputPaths:   []string{defaultErrorPath},
		RotationMaxSize:    100,
		RotationMaxAge:     30,
		RotationMaxBackups: 1000,
		outputLevels:       DefaultScopeName + ":" + levelToString[defaultOutputLevel],
	}
}

// SetOutputLevel sets the minimum log output level for a given scope.
func (o *Options) SetOutputLevel(scope string, level Level) {
	sl := scope + ":" + levelToString[level]
	levels := strings.Split(o.outputLevels, ",")

	if scope == DefaultScopeName {
		// see if we have an entry without an explicit scope qualifier (which means it applies to the default scope)
		for i, ol := range levels {
			if !strings.ContainsAny(ol, ":") {
				levels[i] = sl
				o.outputLevels = strings.Join(levels, ",")
				return
			}
		}
	}

	prefix := scope + ":"
	for i, ol := range levels {
		if strings.HasPrefix(ol, prefix) {
			levels[i] = sl
			o.outputLevels = strings.Join(levels, ",")
			return
		}
	}

	levels = append(levels, sl)
	o.outputLevels = strings.Join(levels, ",")
}

// GetOutputLevel returns the minimum log output level for a given scope.
func (o *Options) GetOutputLevel(scope string) (Level, error) {
	levels := strings.Split(o.outputLevels, ",")
	for _, sl := range levels {
		s, l, err := convertScopedLevel(sl)
		if err != nil {
			return NoneLevel, err
		}
		if s == scope {
			return l, nil
		}
	}
	return NoneLevel, fmt.Errorf("no level defined for scope '%s'", scope)
}

// SetLogCallers sets whether to output the caller's source code location for a given scope.
func (o *Options) SetLogCallers(scope string, include bool) {
	scopes := strings.Split(o.logCallers, ",")

	for i, s := range scopes {
		if s == scope {
			if !include {
				scopes = append(scopes[:i], scopes[i+1:]...)
				o.logCallers = strings.Join(scopes, ",")
			}
			return
		}
	}

	if include {
		scopes = append(scopes, scope)
		o.logCallers = strings.Join(scopes, ",")
	}
}

func convertScopedLevel(sl string) (string, Level, error) {
	var s string
	var l string

	pieces := strings.Split(sl, ":")
	if len(pieces) == 1 {
		s = DefaultScopeName
		l = pieces[0]
	} else if len(pieces) == 2 {
		s = pieces[0]
		l = pieces[1]
	} else {
		return "", NoneLevel, fmt.Errorf("invalid output level format '%s'", sl)
	}

	level, ok := stringToLevel[l]
	if !ok {
		return "", NoneLevel, fmt.Errorf("invalid output level '%s'", sl)
	}

	return s, level, nil
}

// AttachCobraFlags attaches a set of Cobra flags to the given Cobra command.
//
// Cobra is the command-line processor that the tree server binary uses. This
// call attaches the logging flags to the persistent flag set of the command.
func (o *Options) AttachCobraFlags(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()

	fs.StringArrayVar(&o.OutputPaths, "log_target", o.OutputPaths,
		"The set of paths where to output the log. This can be any path as well as the special values stdout and stderr")

	fs.StringVar(&o.RotateOutputPath, "log_rotate", o.RotateOutputPath,
		"The path for the optional rotating log file")

	fs.IntVar(&o.RotationMaxAge, "log_rotate_max_age", o.RotationMaxAge,
		"The maximum age in days of a log file beyond which the file is rotated (0 indicates no limit)")

	fs.IntVar(&o.RotationMaxSize, "log_rotate_max_size", o.RotationMaxSize,
		"The maximum size in megabytes of a log file beyond which the file is rotated")

	fs.IntVar(&o.RotationMaxBackups, "log_rotate_max_backups", o.RotationMaxBackups,
		"The maximum number of log file backups to keep before older files are deleted (0 indicates no limit)")

	fs.BoolVar(&o.JSONEncoding, "log_as_json", o.JSONEncoding,
		"Whether to format output as JSON or in plain console-friendly format")

	keys := append(sortedScopeNames(), OverrideScopeName)
	sort.Strings(keys)
	s := strings.Join(keys, ", ")

	fs.StringVar(&o.outputLevels, "log_output_level", o.outputLevels,
		fmt.Sprintf("Comma-separated minimum per-scope logging level of messages to output, in the form of "+
			"<scope>:<level>,<scope>:<level>,... where scope can be one of [%s] and level can be one of [debug, info, warn, error, fatal, none]",
			s))

	fs.StringVar(&o.logCallers, "log_caller", o.logCallers,
		fmt.Sprintf("Comma-separated list of scopes for which to include caller information, scopes can be any of [%s]", s))
}
