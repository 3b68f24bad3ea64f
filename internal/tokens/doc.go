// Package tokens provides the default in-memory implementation of the
// delegated token store collaborator, plus conversions between stored token
// records and oauth2.Token values.
package tokens
