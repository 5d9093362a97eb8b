// Package delivery implements the tri-weekly challenge delivery pipeline.
//
// The service layer contains all business logic for enumerating eligible
// subscribers, resolving the period's content, fanning out to the email and
// SMS channels, and recording outcomes in the delivery ledger. It depends on
// repository interfaces defined in this package and should never import
// from api/.
//
// Repository implementations live in repository/postgres/.
package delivery
