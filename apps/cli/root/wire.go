package root

import (
	"github.com/guiomkt/angubackend-sub001/apps/cli/cmd/bootstrap"
	channelcmd "github.com/guiomkt/angubackend-sub001/apps/cli/cmd/channel"
	restaurantcmd "github.com/guiomkt/angubackend-sub001/apps/cli/cmd/restaurant"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(restaurantcmd.Command())
	Root().AddCommand(channelcmd.Command())
}
