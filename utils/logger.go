package utils

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type matcher struct {
	regex   *regexp.Regexp
	channel chan ([]string)
	mask    bool
}

// NewMatchingLogger returns a MatchingLogger that tags every line with source.
func NewMatchingLogger(logger *zap.SugaredLogger, source string, isError bool) *MatchingLogger {
	return &MatchingLogger{logger: logger, source: source, defaultError: isError}
}

// MatchingLogger is an io.Writer for subprocess output that logs each write and can send regex matched lines to a channel.
type MatchingLogger struct {
	mu           sync.RWMutex
	logger       *zap.SugaredLogger
	source       string
	matchers     map[string]matcher
	defaultError bool
}

// AddMatcher adds a named regex to filter from results and return to a channel, optionally masking it from normal logging.
func (l *MatchingLogger) AddMatcher(name string, regex *regexp.Regexp, mask bool) (<-chan []string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.matchers == nil {
		l.matchers = make(map[string]matcher)
	}
	_, ok := l.matchers[name]
	if ok {
		return nil, errors.Errorf("matcher already exists: %s", name)
	}
	c := make(chan []string, 32)
	l.matchers[name] = matcher{regex: regex, channel: c, mask: mask}
	return c, nil
}

// DeleteMatcher removes a previously added matcher.
func (l *MatchingLogger) DeleteMatcher(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.matchers[name]
	if ok {
		close(m.channel)
		delete(l.matchers, name)
	}
}

// Write takes input and filters it against each defined matcher, before logging it.
func (l *MatchingLogger) Write(p []byte) (int, error) {
	var mask bool

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.matchers {
		matches := m.regex.FindStringSubmatch(string(p))
		if matches != nil {
			// never block the writer on a slow reader
			select {
			case m.channel <- matches:
			default:
			}
			if m.mask {
				mask = true
			}
		}
	}

	if mask {
		return len(p), nil
	}

	lines := strings.TrimSpace(string(p))
	if lines == "" {
		return len(p), nil
	}
	lines = strings.ReplaceAll(lines, "\n", "\n\t")
	if l.defaultError {
		l.logger.Error(fmt.Sprintf("%s error output:\n\t%s", l.source, lines))
	} else {
		l.logger.Info(fmt.Sprintf("%s output:\n\t%s", l.source, lines))
	}

	return len(p), nil
}
