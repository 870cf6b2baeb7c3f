// Package prefetch turns byte-range reads of one large remote object into a
// pipelined stream of range GETs.
//
// A Request plans a lookahead window ahead of the consumer, growing it while
// reads stay sequential and resetting it on a seek. Each window is split into
// parts that are fetched concurrently on an Executor. Every range GET is
// flow-controlled by a read window that grows only as the consumer drains
// data, so a slow consumer bounds the bytes held in memory.
//
// Every chunk is checked against the object's size and fingerprint. A
// mismatch poisons the request; any other range failure surfaces once and
// the next read replans from the consumer's offset.
package prefetch
