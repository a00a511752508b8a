/*
Core implements the risk-gated submission path.

# Module
  - coordinator: gate check, fund reservation, and order registration as a
    single logical call
  - reference-data provider hook for the gate's sanity checks

# Source
 1. order submissions from the strategy layer
 2. balance and execution events via feed

# Produce
  - risk verdicts, reservations and registrations in the audit ledger
  - admitted orders handed to the external execution layer

# Sharded
  - per client order id (striped; the duplicate check and the reservation
    are one critical section)
*/
package core
