// Package source holds static capability metadata for every supported price
// source and resolves the effective connection mode and poll interval for a
// source from that metadata plus persisted settings.
//
// Resolution is pure: no network or database access happens here. Unknown
// sources resolve to conservative interval polling so one misconfigured
// source cannot stall scheduling for the rest.
package source
