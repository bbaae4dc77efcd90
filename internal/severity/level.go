package severity

import "fmt"

// Level is an ordinal severity bucket, ordered low to high.
type Level int

const (
	VeryLow Level = iota
	Low
	Moderate
	High
	VeryHigh
)

var levelNames = map[Level]string{
	VeryLow:  "VERY_LOW",
	Low:      "LOW",
	Moderate: "MODERATE",
	High:     "HIGH",
	VeryHigh: "VERY_HIGH",
}

// Traffic-light palette keyed by level.
var levelColors = map[Level]string{
	VeryLow:  "#22C55E",
	Low:      "#84CC16",
	Moderate: "#EAB308",
	High:     "#F97316",
	VeryHigh: "#DC2626",
}

var levelLabels = map[Level]string{
	VeryLow:  "Muy Bajo",
	Low:      "Bajo",
	Moderate: "Moderado",
	High:     "Alto",
	VeryHigh: "Muy Alto",
}

var levelRecommendations = map[Level]string{
	VeryLow:  "Condiciones óptimas. Continuar con prácticas normales.",
	Low:      "Condiciones favorables. Monitoreo regular recomendado.",
	Moderate: "Condiciones moderadas. Implementar medidas preventivas.",
	High:     "Riesgo elevado. Aplicar medidas de mitigación inmediatas.",
	VeryHigh: "Riesgo crítico. Acción urgente requerida.",
}

// Levels returns every level in ordinal order.
func Levels() []Level {
	return []Level{VeryLow, Low, Moderate, High, VeryHigh}
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// MarshalText encodes the level as its upper-case name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("marshal severity level: unknown level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes an upper-case level name.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel looks up a level by its upper-case name.
func ParseLevel(name string) (Level, error) {
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("parse severity level: unknown name %q", name)
}

// Color returns the hex color for a level. Unknown levels get the MODERATE color.
func Color(l Level) string {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return levelColors[Moderate]
}

// Label returns the display label for a level.
func Label(l Level) string {
	if s, ok := levelLabels[l]; ok {
		return s
	}
	return "Desconocido"
}

// Recommendation returns the fixed advisory text for a level.
func Recommendation(l Level) string {
	if s, ok := levelRecommendations[l]; ok {
		return s
	}
	return "Monitoreo recomendado."
}

// Threshold returns the lower |raw value| bound of a level. The second
// result is false for unknown levels.
func Threshold(l Level) (float64, bool) {
	if !l.Valid() {
		return 0, false
	}
	return float64(l), true
}
