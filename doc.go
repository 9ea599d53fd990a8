/*
Package docdb implements a schema-free document store on top of a relational
storage engine.

Databases contain collections, collections contain documents (maps of field
names to values) addressed by an ObjectId. Any document field can be promoted
to a column of the collection's relation with CreateIndex; promoted fields are
kept in sync with the document on every write and speed up queries.

# Persisted layout

**Catalog.** A relation named “databases” lists the known database names.

**Collections.** Each collection is a relation named
collection_<database>__<collection> with an _id column (the hex ObjectId), a
_blob column holding the encoded document, and one column per promoted field.
Names are restricted to letters, digits and single underscores, so the “__”
separator is unambiguous.

**Compound indexes.** CreateIndex builds an index named
index_<database>__<collection>__<field1>__<field2>... over the promoted
columns.

## Engines

The Bolt engine keeps every relation as a bucket holding a “_meta” document
(msgpack: columns, index ordinals), a “data” sub-bucket and an “i_<index>”
sub-bucket per index. Index ordinals are never reused.

**Row value**: value header, then row data, then index key records.

**Value header**:
1. Flags (uvarint).
2. Modification count (uvarint).
3. Data size (uvarint).
4. Index size (uvarint).

**Row data**: the blob (varbytes), the number of populated columns (uvarint),
then for each populated column its name and value (varbytes each).

**Index key records** record the index keys contributed by this row, so that
stale entries can be deleted when the row is replaced:
1. Number of entries (uvarint).
2. For each entry: index ordinal (uvarint), key length (uvarint), key bytes.

An index key is the concatenation of the column values followed by the
encoded id.

The SQLite engine maps relations onto tables and indexes one to one.

## Binary encoding

**Column values** are a kind byte followed by an order-preserving encoding of
the value, so that byte order matches value order within a kind.

**Blob**: flags (uvarint: format version, compression), uncompressed data size
(uvarint), xxhash64 of the uncompressed data (8 bytes), then the data:
a msgpack tree of the document without _id, optionally compressed with snappy
or zstd. ObjectIds and timestamps are msgpack extension types 1 and 2.
*/
package docdb
