// Package process launches and supervises the long-running commands of a
// development session, chiefly the application server.
//
// # Supervisor
//
// Supervisor tracks every child process taskforge started so a single
// Shutdown can stop all of them:
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(5 * time.Second)
//
// Children run in their own process group; signals go to the whole group.
//
// # Supervised
//
// Supervised keeps one command alive across crashes and restart requests:
//
//	stopped -> starting -> running -> crashed -> starting -> ...
//	                          |
//	                          +-> restarting -> starting
//
// Each launch is a generation. Output and exit notifications carry the
// generation that produced them and are dropped once a newer generation
// exists. Crash relaunches back off exponentially; MaxRestarts consecutive
// crashes end supervision with ErrProcessCrash. Stop is the only way into
// the terminal stopped state.
package process
