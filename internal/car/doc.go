// Package car defines the storefront domain model: car records, image
// associations, ingest tasks, the loose row type returned by table stores and
// the error taxonomy shared by the ingestion pipeline.
package car
