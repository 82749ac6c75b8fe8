// Package domain contains the core entities of the ingestion and retrieval
// pipeline: documents, chunks, retrieval candidates, answers and sessions,
// together with the domain error taxonomy.
//
// The package has no infrastructure dependencies; adapters translate to and
// from these types at the port boundaries.
package domain
