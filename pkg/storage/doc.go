/*
Package storage keeps run state in a bbolt database for later inspection.

The database lives at <workdir>/state.db and holds three kinds of records:

	reports    the Report of each run, with meta/latest pointing at the newest
	instances  one InstanceRecord per service with its transitions
	volumes    volumes created for the project, used by teardown

Reports and instances describe a single run. The provisioner calls Reset at
the start of every run so nothing from an earlier run is ever read back as
current state. Volumes survive until teardown deletes them.

Records are stored as JSON, keyed by id.
*/
package storage
