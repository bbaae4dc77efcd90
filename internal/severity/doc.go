// Package severity turns gridded standardized temperature index (STI) values
// into classified heatmap points.
//
// # STI Conventions
//
// STI is a dimensionless anomaly index centered at 0 ("no anomaly"). Observed
// values sit roughly within ±8; anything beyond is treated as a sensor or
// model artifact and clamped:
//
//	ClampMin = -8.0, ClampMax = 8.0
//
// Missing cells (ocean masks, sensor gaps) arrive as NaN or ±Inf and are
// dropped from the output rather than reported.
//
// # Intensity
//
// Intensity is an absolute severity scale for color mapping, not a rank within
// the observed dataset:
//
//	intensity = min(1, |clamped| / 5.0)
//
// It saturates once |clamped| reaches 5, so a severe event is fully colored
// even when the dataset holds a worse one elsewhere. A separate, range-relative
// value is available as Point.RelativeIntensity.
//
// # Severity Buckets
//
// Derived from |clamped| alone, symmetric in sign:
//
//	<1 VERY_LOW | <2 LOW | <3 MODERATE | <4 HIGH | ≥4 VERY_HIGH
//
// # Extremes
//
// Extreme heat and extreme cold look at the signed value and cover only one
// tail each: heat is ≥ +3, cold is ≤ -3.
package severity
