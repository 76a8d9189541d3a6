package dictkv

/*
DictKV is a local storage engine layer that keeps record stores and secondary indexes as ordered key/value
dictionaries on top of a pluggable key/value engine (memory, badger or leveldb). Concurrent writers are kept apart by
optimistic, shard based write conflict detection: the first writer of a shard wins and everyone else retries.

Building DictKV produces one executable, dictkv-ctl, which inspects and loads data in a storage engine.

The `dictkv` module is organized into the following packages:

* `kv/util/codec`: memcomparable encoding of bytes, integers and floats.
* `kv/keystring`: field orderings, composite keys of typed fields, and self delimiting record ids.
* `kv/dictionary`: the key encoding of record stores and indexes, and the record store and index dictionaries.
* `kv/transaction`: write conflict detection (see `kv/transaction/doc.go`).
* `kv/storage`: the storage engine contract and its implementations.
* `kv/kvengine`: a storage engine instance with its catalog of record stores and indexes, write units and retries.
* `kv/util/worker`: a single goroutine task queue for background work.
* `kv/config`: configuration.
* `kv/dictkv-ctl`: the command line tool, including an interactive shell.
*/
