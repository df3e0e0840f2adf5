// Package paysaga orchestrates cross-border B2B payments as durable sagas.
//
// A payment is validated, its exchange rate locked, screened by the fraud,
// AML and sanctions checks in parallel, optionally held for manual approval,
// authorized, captured, written to the ledger and announced to the customer
// and merchant. Every side effect that commits pushes its undo action on a
// LIFO compensation registry; when a later step is rejected, fails or the
// saga is cancelled, the registry is unwound in reverse order and the saga
// ends Rejected or Failed.
//
// Overview
//
//  1. Register the activities:
//     - Implement each ActivityName as func(context.Context, I) (O, error).
//     - Add them to an ActivityRegistry with Register; package activities
//     holds the production implementations and paysagatest a scriptable fake.
//  2. Pick a Runtime:
//     - Coordinator runs sagas in-process on a LocalRuntime, checkpointing
//     every step to a Store (MemoryStore, FileStore or SQLiteStore) so an
//     interrupted saga resumes with Recover.
//     - Package temporal runs the same Saga as a Temporal workflow, where
//     durability comes from the workflow history.
//  3. Start payments and steer them:
//     - Deliver approval decisions on the approve_payment signal, or with
//     Coordinator.Signal. The first decision wins.
//     - Query the live WorkflowState, or cancel a saga; cancellation
//     compensates like any other failure.
//
// The step journal records every step transition, so a restored saga never
// repeats a step that already succeeded.
package paysaga
