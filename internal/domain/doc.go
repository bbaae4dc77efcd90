// Package domain models gridded STI (standardized temperature index) datasets
// and the heatmap layers built from them.
//
// # Data Source
//
// An STI API publishes model runs and forecast steps:
//
//	GET /sti/runs                       → ["2024042600", "2024042612", ...]
//	GET /sti/{run}/steps                → ["000", "003", ..., "072"]
//	GET /sti/{run}/{step}/subset?lat_min=&lat_max=&lon_min=&lon_max=
//
// Run IDs are YYYYMMDDHH with HH of 00 or 12. Steps are forecast lead hours,
// zero-padded to three digits, every 3 hours up to 72.
//
// A subset carries two coordinate axes and a 2-D value matrix:
//
//	{"run": "...", "step": "...",
//	 "latitudes": [lat0, lat1, ...], "longitudes": [lon0, lon1, ...],
//	 "sti": [[v(lat0,lon0), v(lat0,lon1), ...], ...]}
//
// Masked cells are JSON null and decode to NaN. Latitudes conventionally run
// north to south at 0.25° spacing; nothing here depends on that ordering.
//
// # Kafka Messages
//
// The source topic carries one subset per message in the JSON form above. A
// "content-encoding: zstd" header marks a zstd-compressed value. The sink topic
// carries one HeatmapLayer per message, keyed by layer ID.
//
// # Layer Construction
//
// [BuildLayer] flattens the axes into a per-cell mesh (row-major, latitude
// outer), computes statistics over finite values, and hands the mesh to
// severity.Transform with the observed min/max as the range. Layer IDs are
// SHA-256 hashes of run|step|axis extent so a replayed subset maps to the
// same ID.
package domain
