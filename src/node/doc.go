// Package node implements the coordinator of an ACoL agent.
//
// A Node cycles through a fixed protocol without any central coordinator:
//
//	Setup -> Train -> Send -> Receive -> Train -> ...
//
// In Train, the node runs one step of its learner. In Send, it picks one of
// its reachable neighbours uniformly at random, observers excluded, and sends
// it the trained model, split into multipart fragments when the model exceeds
// the transport's message size. In Receive, it waits a bounded time for one
// complete model from any neighbour and hands it to the learner. Nothing
// received is not an error; the cycle simply goes on.
//
// The transitions are given by the pure Transition function. Any other
// state/event pair is a programming error reported as ErrInvalidTransition.
//
// Presence
//
// Independently of the cycle, a background routine paced by a ControlTimer
// ticks the node's presence tracker, which re-subscribes to unreachable
// neighbours and records view changes, and purges reassembly buffers that
// never completed.
//
// Stopping
//
// Stop can be called in any state. It cancels in-flight work, waits for the
// run loop and background routines, withdraws the node's presence,
// unsubscribes from its neighbours, and closes the transport and the
// snapshot store. Done is closed once all of this has happened.
package node
