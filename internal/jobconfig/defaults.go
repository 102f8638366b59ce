package jobconfig

// globalDefaultsYAML mirrors atomic_hpc/config_yaml.py's _global_defaults:
// the baseline every run is merged against before the file's own
// "defaults" mapping, and finally the run's own fields, are layered on top.
const globalDefaultsYAML = `
description: ""
environment: unix
input:
  path: null
  scripts: null
  files: null
  variables: null
  remote:
    hostname: null
    port: 22
    username: null
    password: null
    private_key_path: null
    private_key_material: null
    timeout: null
output:
  path: output
  remove: null
  rename: null
  remote:
    hostname: null
    port: 22
    username: null
    password: null
    private_key_path: null
    private_key_material: null
    timeout: null
process:
  unix:
    run: null
  windows:
    run: null
  qsub:
    jobname: null
    cores_per_node: 16
    nnodes: 1
    walltime: "24:00:00"
    queue: null
    email: null
    modules: null
    tmpspace: null
    memory_per_node: null
    start_in_temp: false
    run: null
`
