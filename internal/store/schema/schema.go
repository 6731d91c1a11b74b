package schema

import _ "embed"

// ConceptSchemaSQL is the Concept Store DDL, embedded at build time so the
// schema travels with the binary with no runtime lookup of a sibling
// directory relative to the source file.
//
//go:embed concept_schema.sql
var ConceptSchemaSQL string

// MarketDataSchemaSQL is the Market-Data Store DDL.
//
//go:embed market_data_schema.sql
var MarketDataSchemaSQL string
