// Package core provides the business logic for CSV editing sessions.
//
// It has no transport or storage dependencies: the web server, the CLI and
// tests drive it through the same types, and storage backends plug in through
// [FileReader] and [FileWriter].
//
// # Round Trip
//
// A document goes through four steps:
//
//  1. A [FileReader] returns the raw text for an opaque handle
//  2. [Codec.Parse] turns the text into a [Grid]; any malformed record
//     rejects the whole load with a [LoadRejectedError]
//  3. [Controller.EditCell] applies [SetCell] to the session's grid
//  4. [Codec.Serialize] renders the grid and a [FileWriter] stores it
//
// Parse and Serialize are inverses for grids whose rows have at least one cell
// and whose cells contain no carriage return:
//
//	Parse(Serialize(g)).Grid.Equal(g) == true
//
// # Sessions
//
// [Controller] holds one edit session and admits one mutating operation at a
// time. [Service] keys controllers by session id for multi-caller frontends,
// caps the number of sessions, bounds concurrent storage I/O and closes idle
// sessions via [Service.StartSessionSweeper].
//
// # Error Handling
//
// Failures are returned, never logged and swallowed. Callers branch with
// errors.Is on [ErrReadFailure], [ErrWriteFailure], [ErrPermissionDenied],
// [ErrPrecondition] and [ErrBusy], or errors.As on [*LoadRejectedError].
// [MapError] turns any of them into a coded [UserMessage] for display.
package core
