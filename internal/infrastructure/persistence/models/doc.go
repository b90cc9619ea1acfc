// Package models contains the GORM persistence models and their mappings
// to and from the domain types. Domain aggregates never carry persistence
// tags; the translation lives here.
package models
