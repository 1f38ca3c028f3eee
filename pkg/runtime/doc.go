/*
Package runtime is the container collaborator used to run topology services.

The Runtime interface covers what provisioning needs: Launch a service with its
volume, Restart it after a trust import, Exec commands and CopyInto files for
probes and trust bootstrap, InspectStatus, and Remove/List for teardown.

ContainerdRuntime implements it on containerd:

	rt, err := runtime.NewContainerdRuntime(runtime.Options{
		SocketPath: "/run/containerd/containerd.sock",
		Namespace:  "stackup",
		Project:    "demo",
		LogDir:     filepath.Join(workdir, "logs"),
	})
	defer rt.Close()

	handle, err := rt.Launch(ctx, spec, volume)

Containers run in the host network namespace with the host's hosts and
resolv.conf files, so services address each other as localhost. The volume is
bind mounted read-write at its target. Images are pulled on first use. Task
output goes to <LogDir>/<handle>.log and survives restarts.

Handles have the form <project>-<service>. Every container carries the
io.stackup.project and io.stackup.service labels, which List uses to find
what a previous run left behind.

CopyInto writes through the bind mount when the destination lies inside one,
otherwise it streams the content through sh inside the container.

Package runtimetest has an in-memory fake recording every call.
*/
package runtime
