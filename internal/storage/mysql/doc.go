// Package mysql provides repositories backed by MySQL. It encapsulates schema
// migrations and strongly typed queries for persisting conversations and
// asynchronous job records.
package mysql
