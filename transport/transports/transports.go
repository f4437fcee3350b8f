// Package transports imports every built-in group transport so each one
// registers itself with the default registry.
package transports

import (
	_ "github.com/drblury/eventbus/transport/aws"
	_ "github.com/drblury/eventbus/transport/channel"
	_ "github.com/drblury/eventbus/transport/kafka"
	_ "github.com/drblury/eventbus/transport/nats"
	_ "github.com/drblury/eventbus/transport/rabbitmq"
)
