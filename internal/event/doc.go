/*
Package event distributes conversation events to observers.

The session registry delivers events to attached protocol clients directly,
under the conversation lock. It also publishes each event on a Bus so that
observers without a conversation attachment (the /events SSE stream, tests)
can follow every conversation.

# Bus

Bus is built on watermill's gochannel pub/sub with
BlockPublishUntilSubscriberAck enabled. Every subscription acknowledges a
message only after it has been appended to an unbounded Queue, which gives:

  - FIFO delivery per subscriber, matching publish order
  - no dropped events for slow readers
  - a bounded wait for the publisher (one queue append per subscriber)

# Queue

Queue is a small unbounded FIFO with a context-aware blocking Pop. The
protocol server uses the same type for per-client outboxes.
*/
package event
