package sqlassets

import _ "embed"

//go:embed schema/platform/restaurants.sql
var RestaurantsSQL string

//go:embed schema/platform/whatsapp_channels.sql
var WhatsAppChannelsSQL string

//go:embed schema/platform/whatsapp_integration_logs.sql
var WhatsAppIntegrationLogsSQL string
