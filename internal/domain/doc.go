// Package domain models the canonical weather records published by the
// ingest service and the upstream conventions they are normalized from.
//
// # Canonical Records
//
// Every provider is mapped into two shapes:
//
//	StationMetadata  identity and location of one station, keyed {source}.{id}
//	Observation      one reading at one instant, keyed {source}.{id}.{observed_at}
//
// Optional measurements are pointers. A nil pointer means the provider did not
// report the value, reported a placeholder, or flagged it as untrustworthy. A
// sentinel number never survives parsing.
//
// # Sources
//
//	ndbc   NOAA National Data Buoy Center realtime2 text files (buoy)
//	isd    NOAA Integrated Surface Database / global-hourly CSV (surface archive)
//	oscar  WMO OSCAR/Surface station registry JSON (registry, metadata only)
//
// # Missing Values
//
// NDBC writes "MM" for any missing column and, depending on the column, a
// field-width placeholder such as 99.0, 999 or 9999.0. Placeholders are matched
// numerically per column, so "99.00" and "99.0" are both missing wave height.
//
// ISD encodes each element as a comma separated group of sub-fields in fixed
// units (tenths of a degree, tenths of a hectopascal, ...). Every measured
// sub-field carries a quality code; a value is kept only when the code means
// "passed" or "not checked", and only then is the sentinel (9999, 99999, ...)
// compared and the unit converted:
//
//	TMP "+0152,1"            15.2 °C
//	TMP "+0152,3"            null (erroneous)
//	WND "270,1,N,0046,1"     270°, 4.6 m/s
//	VIS "016000,1,9,9"       16000 m
//
// OSCAR is authoritative metadata. A key that is absent, empty or the literal
// "(inapplicable)" is treated as missing.
//
// # Time
//
// All timestamps are UTC. ingested_at and updated_at record when the service
// fetched the payload and come from the package clock (see [SetClock]) so
// tests can pin them.
package domain
