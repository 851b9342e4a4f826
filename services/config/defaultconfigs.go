package config

// defaultConfig runs one simulated probe when no file is given.
const defaultConfig = `
board:
  adc: sim
  sim_pins: [26, 27, 28]
hal:
  devices:
    - id: tank_tds
      type: gravity_tds
      params:
        pin: 26
        update_interval: 10s
        name: Tank TDS
http:
  addr: ":8080"
`
