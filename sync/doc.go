// Package sync reconciles provider accounts, balances, and transactions into
// local storage, and schedules recurring sync work through the job queue.
package sync
