// Package record holds the PackageRecord schema, the per-class normalization
// rules used by the audit pass and the harvester, and the enrichment that turns
// an aggregator payload plus registry page data into a storable record.
//
// Every store row has exactly FieldCount columns in the order given by Fields.
// Normalize is idempotent: a record that passed once passes again unchanged.
package record
