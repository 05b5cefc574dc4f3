package processors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// Temperature scales accepted by ConvertTemperature.
const (
	Celsius    = "celsius"
	Fahrenheit = "fahrenheit"
)

// Attributes set by ConvertTemperature.
const (
	AttrTemperatureUnit = "temperature.unit"
	AttrConvertError    = "convert.error"
)

// converter maps a reading in one scale to the other.
type converter struct {
	to      string
	convert func(float64) float64
}

var converters = map[string]converter{
	Celsius:    {to: Fahrenheit, convert: func(c float64) float64 { return 1.8*c + 32 }},
	Fahrenheit: {to: Celsius, convert: func(f float64) float64 { return (f - 32) / 1.8 }},
}

// ConvertTemperature reads a number from the FlowFile content and converts it
// between Celsius and Fahrenheit.
//
// Properties:
//   - from: celsius or fahrenheit (default celsius)
//   - precision: decimal places in the output (default 2)
//
// Content that is not a number is routed to failure with a convert.error
// attribute. The converted FlowFile keeps its identity.
type ConvertTemperature struct{}

// NewConvertTemperature creates a ConvertTemperature processor.
func NewConvertTemperature() streamsync.Processor {
	return ConvertTemperature{}
}

// Name implements streamsync.Processor.
func (ConvertTemperature) Name() string { return "ConvertTemperature" }

// Relationships implements streamsync.Declarer.
func (ConvertTemperature) Relationships() (inputs, outputs []streamsync.Relationship) {
	return []streamsync.Relationship{streamsync.RelIn},
		[]streamsync.Relationship{streamsync.RelSuccess, streamsync.RelFailure}
}

// OnTrigger implements streamsync.Processor.
func (ConvertTemperature) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	from := strings.ToLower(strings.TrimSpace(stringProperty(ctx, "from", Celsius)))
	conv, ok := converters[from]
	if !ok {
		return &streamsync.ConfigurationError{
			Processor: ctx.Config().Name(),
			Property:  "from",
			Reason:    fmt.Sprintf("unknown scale %q, want %s or %s", from, Celsius, Fahrenheit),
		}
	}
	precision, err := intProperty(ctx, "precision", 2)
	if err != nil {
		return err
	}

	ff, ok := s.Get(streamsync.RelIn)
	if !ok {
		return streamsync.ErrNoWork
	}

	reading, err := strconv.ParseFloat(strings.TrimSpace(string(ff.Content())), 64)
	if err != nil {
		ctx.Logger().Debug("temperature not a number", "flowfile", ff.ID(), "error", err)
		return s.Transfer(ff.WithAttribute(AttrConvertError, err.Error()), streamsync.RelFailure)
	}

	out := strconv.FormatFloat(conv.convert(reading), 'f', precision, 64)
	return s.Transfer(
		ff.WithContent([]byte(out)).WithAttribute(AttrTemperatureUnit, conv.to),
		streamsync.RelSuccess,
	)
}
