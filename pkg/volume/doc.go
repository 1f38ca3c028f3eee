/*
Package volume manages the persistent stores bound to service instances and
the files seeded into them before a service starts.

# Layout

The local driver keeps every volume as a directory under the workspace:

	<workdir>/volumes/
	├── stackup-db-data/        bind-mounted at /var/lib/postgresql/data
	├── stackup-primary-home/
	│   └── shared/
	│       └── bitbucket.properties
	└── stackup-proxy-conf/
	    ├── nginx.conf
	    └── certs/
	        ├── proxy.crt
	        └── proxy.key

Volume ids are <project>-<name>, so teardown of a project finds its volumes
without consulting the runtime.

# Seeding

Seeder.Seed runs while a node is in the seeding state, before the instance
exists. Each seed file is written to a temporary file in the destination
directory and renamed into place, so a failed seed leaves the previous
content untouched. A directory entry applies its mode and ownership to the
whole subtree. Ownership is applied only when a uid or gid is set.

Destinations are relative to the volume root; a destination that resolves
outside the volume fails the node with a *types.SeedError.

Seeding is idempotent: the same input produces the same content, mode and
ownership on every run.
*/
package volume
