package transaction

// The transaction package implements dictkv's conflict detection layer. It does not own data: callers mutate the
// underlying storage themselves and use this layer only to learn whether a concurrent operation touched the same part
// of the key space.
//
// The key space is split into a fixed number of *shards* by key hash (see occ.Engine). Tracking shards rather than
// keys bounds the memory used for conflict detection, at the price of false conflicts between keys that share a shard.
//
// Each operation runs inside an occ.Txn:
//
// * Begin (or RecordSnapshot) records the latest commit sequence number as the txn's *snapshot*.
// * RegisterWrite must be called for every key before it is written. It fails if another txn committed to the key's
//   shard after the snapshot (write-committed conflict) or another txn claimed the shard and has not finished yet
//   (write-uncommitted conflict). The first txn to claim a shard wins; nobody waits.
// * Commit releases the claims and stamps each claimed shard with a new sequence number. It cannot fail.
// * Abort releases the claims without advancing any sequence number.
//
// A write conflict is an ordinary, expected result: the caller aborts the whole txn and retries the operation from the
// start, usually with some backoff. kvengine.RunInTxn implements that loop.
