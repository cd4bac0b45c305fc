// Package mongo provides a MongoDB-backed result.Store. Build the low-level
// client via features/result/mongo/clients/mongo and pass it to NewStore, or
// let NewStoreFromMongo construct it from driver options.
package mongo
