// Package cli provides the interactive FoodAI command loop.
//
// The shell reads one command per line and dispatches it to the record
// service. Writes only touch local storage; the background processor
// drains the sync queue on its own, and "sync" runs a pass right away.
//
// Commands:
//   - add name=value ...      store a record (interactive without args)
//   - update <id> name=value  change fields; "name=" removes a field
//   - list [page] [-u] [-o]   list records, -u unsynced only, -o oldest first
//   - show <id>               print one record
//   - delete <id>             delete a record
//   - clear                   delete every local record
//   - recognize [-f image] text
//   - sync | status | retry
//   - exit | quit
package cli
