// Package odontology holds the clinical procedure lifecycle and odontogram
// rules shared by the API server and the client workflow engine. Everything
// here is synchronous and free of I/O; the acting user is always passed in.
package odontology
