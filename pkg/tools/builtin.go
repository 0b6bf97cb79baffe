package tools

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// Builtin returns the default tool set, minus any names in disabled.
func Builtin(clock Clock, disabled ...string) []Tool {
	if clock == nil {
		clock = time.Now
	}
	all := []Tool{
		Calculator{},
		UnitConverter{},
		CurrentTime{Clock: clock},
		TimezoneTime{Clock: clock},
		DaysBetween{},
		TextAnalyzer{},
		EncodeDecode{},
	}
	out := all[:0]
	for _, t := range all {
		if !slices.Contains(disabled, t.Name()) {
			out = append(out, t)
		}
	}
	return out
}

// --- Mathematical & Computation Tools ---

// Calculator evaluates arithmetic expressions.
type Calculator struct{}

func (Calculator) Name() string { return "calculator" }

func (Calculator) Description() string {
	return "Performs mathematical calculations. Supports + - * / %, ** for powers and parentheses, e.g. \"2 + 2\", \"(75-32)*5/9\" or \"2**10\"."
}

func (Calculator) Parameters() Schema {
	return Object(map[string]Property{
		"expression": {Type: "string", Description: "The arithmetic expression to evaluate"},
	}, "expression")
}

func (Calculator) Execute(_ context.Context, args map[string]any) (string, error) {
	v, err := EvalExpression(argString(args, "expression"))
	if err != nil {
		return "", err
	}
	return FormatNumber(v), nil
}

type conversion func(float64) float64

var conversions = map[[2]string]conversion{
	// Temperature
	{"celsius", "fahrenheit"}: func(x float64) float64 { return x*9/5 + 32 },
	{"fahrenheit", "celsius"}: func(x float64) float64 { return (x - 32) * 5 / 9 },
	{"celsius", "kelvin"}:     func(x float64) float64 { return x + 273.15 },
	{"kelvin", "celsius"}:     func(x float64) float64 { return x - 273.15 },
	// Length
	{"km", "miles"}:     func(x float64) float64 { return x * 0.621371 },
	{"miles", "km"}:     func(x float64) float64 { return x * 1.60934 },
	{"meters", "feet"}:  func(x float64) float64 { return x * 3.28084 },
	{"feet", "meters"}:  func(x float64) float64 { return x * 0.3048 },
	{"cm", "inches"}:    func(x float64) float64 { return x * 0.393701 },
	{"inches", "cm"}:    func(x float64) float64 { return x * 2.54 },
	// Weight
	{"kg", "lbs"}: func(x float64) float64 { return x * 2.20462 },
	{"lbs", "kg"}: func(x float64) float64 { return x * 0.453592 },
}

// UnitConverter converts between common temperature, length and weight units.
type UnitConverter struct{}

func (UnitConverter) Name() string { return "unit_converter" }

func (UnitConverter) Description() string {
	return "Converts a value between units: temperature (celsius, fahrenheit, kelvin), length (km, miles, meters, feet, cm, inches) and weight (kg, lbs)."
}

func (UnitConverter) Parameters() Schema {
	return Object(map[string]Property{
		"value":     {Type: "number", Description: "The numeric value to convert"},
		"from_unit": {Type: "string", Description: "The source unit, e.g. 'celsius', 'km', 'kg'"},
		"to_unit":   {Type: "string", Description: "The target unit"},
	}, "value", "from_unit", "to_unit")
}

func (UnitConverter) Execute(_ context.Context, args map[string]any) (string, error) {
	value := argNumber(args, "value")
	from, to := argString(args, "from_unit"), argString(args, "to_unit")

	fn, ok := conversions[[2]string{strings.ToLower(from), strings.ToLower(to)}]
	if !ok {
		return "", fmt.Errorf("conversion %s->%s not supported. Available: %s", from, to, availableConversions())
	}
	return fmt.Sprintf("%s %s = %.2f %s", FormatNumber(value), from, fn(value), to), nil
}

func availableConversions() string {
	pairs := make([]string, 0, len(conversions))
	for k := range conversions {
		pairs = append(pairs, k[0]+"->"+k[1])
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

// --- Date & Time Tools ---

const dateTimeLayout = "2006-01-02 15:04:05 Monday"

// CurrentTime reports the local date and time.
type CurrentTime struct {
	Clock Clock
}

func (CurrentTime) Name() string { return "get_current_time" }

func (CurrentTime) Description() string {
	return "Returns the current local date, time and day of the week."
}

func (CurrentTime) Parameters() Schema { return Object(nil) }

func (t CurrentTime) Execute(_ context.Context, _ map[string]any) (string, error) {
	return "Current date and time: " + t.Clock().Format(dateTimeLayout), nil
}

// TimezoneTime reports the current time in an IANA timezone.
type TimezoneTime struct {
	Clock Clock
}

func (TimezoneTime) Name() string { return "get_timezone_time" }

func (TimezoneTime) Description() string {
	return "Returns the current time in an IANA timezone such as 'America/New_York' or 'Europe/London'."
}

func (TimezoneTime) Parameters() Schema {
	return Object(map[string]Property{
		"timezone": {Type: "string", Description: "IANA timezone name"},
	}, "timezone")
}

func (t TimezoneTime) Execute(_ context.Context, args map[string]any) (string, error) {
	name := argString(args, "timezone")
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" {
		return "", fmt.Errorf("unknown timezone %q. Try timezones like 'America/New_York', 'Europe/London', 'Asia/Tokyo'", name)
	}
	return fmt.Sprintf("Time in %s: %s", name, t.Clock().In(loc).Format(dateTimeLayout+" MST")), nil
}

// DaysBetween counts the days between two calendar dates.
type DaysBetween struct{}

func (DaysBetween) Name() string { return "days_between_dates" }

func (DaysBetween) Description() string {
	return "Calculates the number of days between two dates given as YYYY-MM-DD."
}

func (DaysBetween) Parameters() Schema {
	return Object(map[string]Property{
		"date1": {Type: "string", Description: "First date, YYYY-MM-DD"},
		"date2": {Type: "string", Description: "Second date, YYYY-MM-DD"},
	}, "date1", "date2")
}

func (DaysBetween) Execute(_ context.Context, args map[string]any) (string, error) {
	a, b := argString(args, "date1"), argString(args, "date2")
	d1, err := time.Parse(time.DateOnly, a)
	if err != nil {
		return "", fmt.Errorf("invalid date %q. Use format YYYY-MM-DD (e.g., 2024-12-31)", a)
	}
	d2, err := time.Parse(time.DateOnly, b)
	if err != nil {
		return "", fmt.Errorf("invalid date %q. Use format YYYY-MM-DD (e.g., 2024-12-31)", b)
	}
	days := int(d2.Sub(d1).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return fmt.Sprintf("Days between %s and %s: %d days", a, b, days), nil
}

// --- Text & String Tools ---

// TextAnalyzer counts words, characters and sentences.
type TextAnalyzer struct{}

func (TextAnalyzer) Name() string { return "text_analyzer" }

func (TextAnalyzer) Description() string {
	return "Analyzes text and reports word count, character count, sentence count and average word length."
}

func (TextAnalyzer) Parameters() Schema {
	return Object(map[string]Property{
		"text": {Type: "string", Description: "The text to analyze"},
	}, "text")
}

func (TextAnalyzer) Execute(_ context.Context, args map[string]any) (string, error) {
	text := argString(args, "text")
	words := len(strings.Fields(text))
	if words == 0 {
		return "", fmt.Errorf("text contains no words")
	}
	chars := utf8.RuneCountInString(text)
	sentences := 0
	for _, s := range strings.Split(text, ".") {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	return fmt.Sprintf("Text Analysis:\n- Words: %d\n- Characters: %d\n- Sentences: %d\n- Avg word length: %.1f chars",
		words, chars, sentences, float64(chars)/float64(words)), nil
}

// EncodeDecode applies Base64 or URL encoding.
type EncodeDecode struct{}

func (EncodeDecode) Name() string { return "encode_decode_text" }

func (EncodeDecode) Description() string {
	return "Encodes or decodes text with Base64 or URL encoding."
}

func (EncodeDecode) Parameters() Schema {
	return Object(map[string]Property{
		"text": {Type: "string", Description: "The text to transform"},
		"operation": {
			Type:        "string",
			Description: "The operation to perform",
			Enum:        []string{"base64_encode", "base64_decode", "url_encode", "url_decode"},
			Default:     "base64_encode",
		},
	}, "text")
}

func (EncodeDecode) Execute(_ context.Context, args map[string]any) (string, error) {
	op := argString(args, "operation")
	c, ok := codecs[op]
	if !ok {
		return "", fmt.Errorf("operation must be base64_encode, base64_decode, url_encode, or url_decode")
	}
	out, err := c.apply(argString(args, "text"))
	if err != nil {
		return "", err
	}
	return c.label + ": " + out, nil
}
