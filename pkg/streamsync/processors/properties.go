package processors

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// Property readers. Processors choose their own defaults; a present but
// malformed value is a *streamsync.ConfigurationError.

func stringProperty(ctx streamsync.Context, key, def string) string {
	if v, ok := ctx.Config().Property(key); ok {
		return v
	}
	return def
}

func intProperty(ctx streamsync.Context, key string, def int) (int, error) {
	v, ok := ctx.Config().Property(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, streamsync.NewConfigurationError(ctx.Config().Name(), key, err)
	}
	if n < 0 {
		return 0, &streamsync.ConfigurationError{
			Processor: ctx.Config().Name(),
			Property:  key,
			Reason:    fmt.Sprintf("must not be negative, got %d", n),
		}
	}
	return n, nil
}

func boolProperty(ctx streamsync.Context, key string, def bool) (bool, error) {
	v, ok := ctx.Config().Property(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, streamsync.NewConfigurationError(ctx.Config().Name(), key, err)
	}
	return b, nil
}

// durationProperty accepts Go duration strings or a bare number of seconds.
func durationProperty(ctx streamsync.Context, key string, def time.Duration) (time.Duration, error) {
	v, ok := ctx.Config().Property(key)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, streamsync.NewConfigurationError(ctx.Config().Name(), key, err)
	}
	return d, nil
}
