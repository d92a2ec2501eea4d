/*
Package idb implements the disk tier of idkv: keys written to the in-memory
keyspaces are persisted to a disk.Store, and keys missing from memory are loaded
back on access.

Writes are either written through (sync mode) or recorded in a pair of dirty
buffers per database. A background flush swaps the buffers, writes the frozen
shadow buffer to the store in its own goroutine and reconciles the result with
the foreground:

	active  <- foreground writes while the flush runs
	shadow  -> flush worker -> disk.Store
	          success: shadow discarded
	          failure: shadow merged back (newer writes win)

Records are stored under a per database namespace (see NameFor) in the format of
package codec, together with a type marker in the side field codec.TypeField.

Example:

	tier, err := idb.New(idb.Config{Enabled: true, Databases: 1}, store, keyspaces)
	if err != nil {
		return err
	}
	defer tier.Close()

	_ = tier.SetKey(0, "user/1", db.String("alice"))

	job, err := tier.BackgroundFlush()
	if err != nil {
		return err
	}
	outcome := job.Wait()
*/
package idb
