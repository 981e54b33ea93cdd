// Package relay is the fan-out engine: an accept server, the distributor that
// feeds every connected client from the single upstream consumer, and one
// connection handler per client that batches messages into a spill queue and
// drains it to the socket.
//
// Data flow:
//
//	producer --OnEvent--> Distributor --Intake--> ConnectionHandler --Put--> SpillQueue
//	                                                      ConnectionHandler <--Poll-- SpillQueue --> net.Conn
//
// Intake never blocks, so a slow client only grows its own queue.
package relay
