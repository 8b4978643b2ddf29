// Command sceneplus runs the Scene Plus daemon and talks to it.
//
// status, entities, update and reload go through the daemon's unix socket.
// scene show, scene capture, scene create, migrate and history open the
// scenes document or journal directly; writes still take the advisory lock on
// the scenes file, so they never interleave with the daemon's own updates.
package main
