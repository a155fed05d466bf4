// Package automation runs daily time-of-day ON/OFF rules for devices.
//
// A Rule names a device, an on time and an off time (HH:mm) and the IANA
// timezone those times are read in. The Service manages rules for
// authenticated callers; the Scheduler evaluates enabled rules every minute
// and sends explicit ON or OFF commands through the command correlator.
//
// # Firing guarantees
//
//   - A (rule, action) pair fires at most once per local calendar minute,
//     however often Tick is called within that minute.
//   - Ticks never overlap. A tick started while another is running returns
//     ErrTickInProgress.
//   - Every attempt writes an ExecutionLog, including failed ones.
//
// Suppression state lives in memory, so a restart inside a trigger minute
// can fire that minute's actions a second time.
package automation
