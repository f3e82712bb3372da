// Package gtfskpi derives operational KPIs from static GTFS
// schedules.
//
// A Manager ingests GTFS archives into storage. Each ingested feed
// is available as a Feed, which computes headways, synthesizes or
// loads delay events, and aggregates both into per route KPIs.
package gtfskpi
