// Package storage persists fetched reports.
//
// Reports are written through gocloud.dev/blob, so the output location may be
// a local directory (the default, "data") or any bucket URL with a registered
// driver: s3://, gs:// or mem:// for tests. Each report is stored under its
// own object name, so concurrent writers never contend.
//
// # Storage Layout
//
//	{location}/system_data_2024-01-01.csv
//	{location}/system_data_2024-01-02.csv
//
// Local directories are created on Open and no sidecar metadata files are
// written next to the reports.
package storage
